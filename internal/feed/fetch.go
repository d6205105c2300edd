package feed

import (
	"context"
	"log"
	"sync"
	"time"
)

// FetchAll fans out across all sources concurrently and concatenates results
// in configured source order, so the batch handed to the identity resolver is
// deterministic regardless of network completion order. A failing source
// contributes an empty batch and an entry in the returned error map; partial
// failure is not fatal to the run.
func FetchAll(ctx context.Context, sources []Source, window Window) ([]RawRecord, map[string]error) {
	results := make([][]RawRecord, len(sources))
	failures := make([]error, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			started := time.Now()
			records, err := src.Fetch(ctx, window)
			if err != nil {
				log.Printf("feed fetch_failed source=%s elapsed_ms=%d err=%q", src.Name(), time.Since(started).Milliseconds(), err.Error())
				failures[i] = err
				return
			}
			log.Printf("feed fetch_ok source=%s records=%d elapsed_ms=%d", src.Name(), len(records), time.Since(started).Milliseconds())
			results[i] = records
		}(i, src)
	}
	wg.Wait()

	out := []RawRecord{}
	errs := map[string]error{}
	for i, src := range sources {
		if failures[i] != nil {
			errs[src.Name()] = failures[i]
			continue
		}
		out = append(out, results[i]...)
	}
	return out, errs
}
