package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMemoStore(t *testing.T) {
	asserts := assert.New(t)

	store := NewMemoStore()
	asserts.NotNil(store)
	asserts.NotNil(store.Store)
}

func TestMemoStore_SetGet(t *testing.T) {
	asserts := assert.New(t)
	store := NewMemoStore()

	// Plain value
	{
		asserts.NoError(store.Set("string", "string_val", 0))
		val, ok := store.Get("string")
		asserts.True(ok)
		asserts.Equal("string_val", val)
	}

	// Missing key
	{
		val, ok := store.Get("something")
		asserts.False(ok)
		asserts.Nil(val)
	}

	// Struct value round trip
	{
		type testStruct struct {
			key int
		}
		test := testStruct{key: 233}
		asserts.NoError(store.Set("struct", test, 0))
		val, ok := store.Get("struct")
		asserts.True(ok)
		res, ok := val.(testStruct)
		asserts.True(ok)
		asserts.Equal(test, res)
	}

	// Expired entries read as missing
	{
		store.Store.Store("expired", itemWithTTL{Value: "gone", Expires: 1})
		_, ok := store.Get("expired")
		asserts.False(ok)
	}
}

func TestMemoStore_GetsSets(t *testing.T) {
	asserts := assert.New(t)
	store := NewMemoStore()

	asserts.NoError(store.Sets(map[string]any{"1": "1", "2": "2"}, "test_"))

	// All hits
	{
		values, missed := store.Gets([]string{"1", "2"}, "test_")
		asserts.Empty(missed)
		asserts.Equal(map[string]any{"1": "1", "2": "2"}, values)
	}

	// Partial hit reports the missing keys
	{
		values, missed := store.Gets([]string{"1", "3"}, "test_")
		asserts.Equal([]string{"3"}, missed)
		asserts.Equal(map[string]any{"1": "1"}, values)
	}
}

func TestMemoStore_Delete(t *testing.T) {
	asserts := assert.New(t)
	store := NewMemoStore()

	asserts.NoError(store.Sets(map[string]any{"1": "1", "2": "2"}, "test_"))
	asserts.NoError(store.Set("other_3", "3", 0))

	// Keyed delete
	{
		asserts.NoError(store.Delete("test_", "1"))
		_, ok := store.Get("test_1")
		asserts.False(ok)
		_, ok = store.Get("test_2")
		asserts.True(ok)
	}

	// Prefix wide delete leaves other prefixes intact
	{
		asserts.NoError(store.Delete("test_"))
		_, ok := store.Get("test_2")
		asserts.False(ok)
		_, ok = store.Get("other_3")
		asserts.True(ok)
	}

	// DeleteAll clears everything
	{
		asserts.NoError(store.DeleteAll())
		_, ok := store.Get("other_3")
		asserts.False(ok)
	}
}
