package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionStateKey returns the storage key for a persisted test session.
// The layout matches the key scheme the browser client used in localStorage,
// so migrating a deployment between the two stores is a straight key copy.
func (r *CacheKeyStruct) SessionStateKey(identity, testName string) string {
	return fmt.Sprintf("test_state_%s_%s", identity, testName)
}

// CompletedKey returns the storage key for the permanent completion marker.
// Completion lives in its own namespace and is never time-evicted.
func (r *CacheKeyStruct) CompletedKey(identity, testName string) string {
	return fmt.Sprintf("test_completed_%s_%s", identity, testName)
}

var CacheKey = NewCacheKeyStruct()
