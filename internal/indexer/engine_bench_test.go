package indexer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/pebblestore"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/queue"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/internal/indexer/writer"
)

// BenchmarkIndexItems measures queue-to-writer throughput in batches of
// 100 documents, with one commit at the end.
func BenchmarkIndexItems(b *testing.B) {
	engines := []store.Engine{segment.NewEngine(), pebblestore.NewEngine()}
	for _, engine := range engines {
		b.Run(engine.Name(), func(b *testing.B) {
			ctx := context.Background()
			ix, err := New(ctx, Options{
				Name:           "bench",
				Location:       b.TempDir(),
				Engine:         engine,
				Registry:       writer.NewRegistry(),
				Async:          true,
				QueueCapacity:  64,
				CommitDebounce: time.Hour,
				CommitMaxAge:   time.Hour,
				WaitForQueue:   true,
			})
			if err != nil {
				b.Fatal(err)
			}
			defer ix.Shutdown(ctx)

			const batch = 100
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				ops := make([]queue.Operation, batch)
				for j := range ops {
					ops[j] = add(fmt.Sprintf("doc-%d-%d", i, j),
						"distributed search engines process queries across multiple shards")
				}
				if err := ix.IndexItems(ctx, queue.Of(ops...)); err != nil {
					b.Fatal(err)
				}
			}
			if err := ix.WaitIdle(ctx); err != nil {
				b.Fatal(err)
			}
			if err := ix.Flush(ctx); err != nil {
				b.Fatal(err)
			}
		})
	}
}
