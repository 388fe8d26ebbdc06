// loadgen fires a stream of prediction requests at a running gateway and
// reports latency and error counts. Used to sanity check a deployment under
// concurrent load.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"headline-backend/pkg/api"

	"github.com/go-resty/resty/v2"
	"github.com/schollz/progressbar/v3"
)

var sampleHeadlines = []string{
	"Stocks rally as tech earnings beat expectations",
	"Central bank holds interest rates steady amid inflation concerns",
	"Startup raises new funding round to expand overseas",
	"Astronomers spot water vapor on distant exoplanet",
	"New chip design promises faster training for language models",
	"Open source project releases long awaited version update",
	"Blockbuster sequel tops box office on opening weekend",
	"Singer announces world tour after award win",
	"Streaming service renews hit series for third season",
	"Researchers link regular exercise to lower heart disease risk",
	"New vaccine shows promise in late stage trials",
	"Study finds sleep quality affects memory in older adults",
}

func main() {
	var (
		gatewayURL  string
		requests    int
		concurrency int
	)
	flag.StringVar(&gatewayURL, "url", "http://localhost:8000", "gateway base url")
	flag.IntVar(&requests, "n", 1000, "total number of requests")
	flag.IntVar(&concurrency, "c", 8, "number of concurrent workers")
	flag.Parse()

	client := resty.New().SetBaseURL(gatewayURL).SetTimeout(30 * time.Second)

	bar := progressbar.NewOptions(requests,
		progressbar.OptionSetDescription("⏳ sending"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	type result struct {
		latency time.Duration
		failed  bool
	}

	results := make([]result, requests)
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				text := sampleHeadlines[rand.Intn(len(sampleHeadlines))]

				start := time.Now()
				var out api.PredictResponse
				resp, err := client.R().
					SetBody(api.PredictRequest{Text: text}).
					SetResult(&out).
					Post("/classify")
				results[i] = result{
					latency: time.Since(start),
					failed:  err != nil || !resp.IsSuccess(),
				}
				_ = bar.Add(1)
			}
		}()
	}

	for i := 0; i < requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	latencies := make([]time.Duration, 0, requests)
	failures := 0
	var total time.Duration
	for _, r := range results {
		if r.failed {
			failures++
			continue
		}
		latencies = append(latencies, r.latency)
		total += r.latency
	}

	if len(latencies) == 0 {
		log.Fatalf("all %d requests failed", requests)
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	fmt.Printf("requests: %d  failures: %d\n", requests, failures)
	fmt.Printf("latency avg: %v  p50: %v  p95: %v  p99: %v\n",
		total/time.Duration(len(latencies)),
		latencies[len(latencies)*50/100],
		latencies[len(latencies)*95/100],
		latencies[min(len(latencies)*99/100, len(latencies)-1)],
	)
}
