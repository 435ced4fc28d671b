package geotab

import "sort"

// Entity is an opaque MyGeotab record. Callers only interpret the handful of fields they need.
type Entity map[string]interface{}

// ID returns the server-assigned identifier of e, or "" if absent.
func (e Entity) ID() string {
	return e.Field("id")
}

// Name returns the name field of e. For users this is the login (an email address).
func (e Entity) Name() string {
	return e.Field("name")
}

// Field returns the value of key if it holds a string.
func (e Entity) Field(key string) string {
	v, _ := e[key].(string)
	return v
}

// Keys returns the field names of e in sorted order.
func (e Entity) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of e.
func (e Entity) Clone() Entity {
	c := make(Entity, len(e))
	for k, v := range e {
		c[k] = v
	}
	return c
}

// Ref references another entity by id, e.g. {"id": "b12"}.
type Ref struct {
	ID string `json:"id"`
}

// Credentials identify an authenticated MyGeotab session.
type Credentials struct {
	Database  string `json:"database"`
	UserName  string `json:"userName"`
	SessionID string `json:"sessionId"`
}
