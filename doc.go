// Package tiercache composes an ordered stack of byte layers into one
// logical cache for a serializable value type.
//
// Components:
//   - Layer: a byte store tier (memory, bigcache, ristretto, redis, sqlite, origin).
//   - Codec[V]: (de)serializes V <-> []byte.
//   - Promise[T]: every operation returns a promise; callers attach
//     continuations or Await instead of blocking on I/O.
//
// Lookup:
//
//	layer 0 (memory) -> layer 1 (sqlite) -> layer 2 (origin)
//
// The first layer that holds the key wins. Its bytes are decoded, written back
// into every faster layer, and returned. A miss falls through to the next
// layer; any other layer error stops the cascade. Bytes that fail to decode
// are evicted from the layer that produced them and from every slower layer,
// because those are where the bad copy came from.
//
//	cache, _ := tiercache.New(tiercache.Options[User]{
//	    Layers: []layer.Layer{mem, disk, origin},
//	    Codec:  codec.JSON[User]{},
//	})
//	u, err := cache.Retrieve(ctx, "https://example.com/users/1").Await(ctx)
//	if errors.Is(err, tiercache.ErrCacheMiss) { ... }
package tiercache
