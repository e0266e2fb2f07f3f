// Command redbench sweeps reduction configurations and reports throughput.
//
// For every declared input size it times each block size / items-per-thread
// combination, verifies the result against a sequential fold, and prints the
// achieved memory bandwidth.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"runtime"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/hpcsim/treduce"
)

func main() {
	var (
		sizeList  = flag.String("sizes", "1048576,16777216", "Comma-separated input sizes")
		blockList = flag.String("blocks", "128,256,512,1024", "Comma-separated block sizes")
		itemList  = flag.String("items", "1,2,4,8,16", "Comma-separated items-per-thread values")
		runs      = flag.Int("runs", 5, "Timed runs per configuration")
		seed      = flag.Int64("seed", 1, "RNG seed for input data")
	)
	flag.Parse()

	sizes, err := parseInts(*sizeList)
	if err != nil {
		log.Fatalf("invalid -sizes: %v", err)
	}
	blocks, err := parseInts(*blockList)
	if err != nil {
		log.Fatalf("invalid -blocks: %v", err)
	}
	items, err := parseInts(*itemList)
	if err != nil {
		log.Fatalf("invalid -items: %v", err)
	}

	dev := treduce.GetDevice()
	fmt.Println("=== treduce benchmark ===")
	fmt.Printf("Device: %s (%d cores, warp width %d)\n", dev.Name, dev.NumCores, dev.WarpWidth)
	fmt.Println(treduce.GetCPUInfo())
	fmt.Printf("Go: %s GOMAXPROCS=%d\n\n", runtime.Version(), runtime.GOMAXPROCS(0))

	maxSize := 0
	for _, n := range sizes {
		if n > maxSize {
			maxSize = n
		}
	}

	rng := rand.New(rand.NewSource(*seed))
	data := make([]float64, maxSize)
	for i := range data {
		data[i] = rng.Float64()*2 - 1
	}

	add := func(a, b float64) float64 { return a + b }
	eng, err := treduce.NewEngine(add, 0, sizes, blocks)
	if err != nil {
		log.Fatalf("engine construction failed: %v", err)
	}
	defer eng.Close()

	fmt.Printf("%12s %6s %6s %12s %12s %10s %7s\n",
		"size", "block", "items", "mean ms", "stddev ms", "GB/s", "check")

	for _, n := range sizes {
		ref := floats.Sum(data[:n])

		for _, block := range blocks {
			if block < dev.WarpWidth {
				continue
			}
			for _, ipt := range items {
				mean, stddev, got, err := timeConfig(eng, data[:n], block, ipt, *runs)
				if err != nil {
					if treduce.IsConfigError(err) {
						continue
					}
					log.Fatalf("reduce failed (n=%d block=%d items=%d): %v", n, block, ipt, err)
				}

				check := "ok"
				if !treduce.Float64NearEqual(ref, got, treduce.RelaxedTolerance()) {
					check = "FAIL"
				}

				gbps := float64(n*8) / (mean / 1e3) / 1e9
				fmt.Printf("%12d %6d %6d %12.4f %12.4f %10.2f %7s\n",
					n, block, ipt, mean, stddev, gbps, check)
			}
		}
		fmt.Println()
	}
}

// timeConfig runs one warmup pass, then the timed runs, and returns the mean
// and standard deviation of the pass-loop time in milliseconds.
func timeConfig(eng *treduce.Engine[float64], input []float64, block, items, runs int) (mean, stddev, result float64, err error) {
	if _, _, err = eng.Reduce(input, block, items); err != nil {
		return 0, 0, 0, err
	}

	samples := make([]float64, 0, runs)
	for i := 0; i < runs; i++ {
		r, elapsed, rerr := eng.Reduce(input, block, items)
		if rerr != nil {
			return 0, 0, 0, rerr
		}
		result = r
		samples = append(samples, float64(elapsed.Microseconds())/1e3)
	}

	return stat.Mean(samples, nil), stat.StdDev(samples, nil), result, nil
}

func parseInts(list string) ([]int, error) {
	parts := strings.Split(list, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", p)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty list")
	}
	return out, nil
}
