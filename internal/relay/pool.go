package relay

import "sync"

// chunkPool holds *[]byte of ChunkSize so each pump direction reuses its
// read buffer across tunnels.
var chunkPool = sync.Pool{
	New: func() any {
		b := make([]byte, ChunkSize)
		return &b
	},
}
