package domain

// Entity is anything the cache-aside repository can key
type Entity interface {
	GetID() string
}
