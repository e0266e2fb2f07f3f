// Package treduce provides a massively-parallel tree reduction engine on a
// CUDA-style device model executed on the CPU.
//
// The package has two halves. The device half emulates an accelerator runtime:
// device memory allocation, host/device copies, ordered execution streams,
// events, and grid/block kernel launches backed by worker goroutines. The
// engine half builds on it: an Engine owns a front/back buffer pair and
// collapses an array into a single scalar with a user-supplied associative
// operator, using a three-stage hierarchical combine per block and a
// multi-pass loop across kernel launches.
//
// Example usage:
//
//	eng, err := treduce.NewEngine(
//		func(a, b int32) int32 { return a + b }, 0,
//		[]int{1 << 20}, []int{256})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer eng.Close()
//
//	sum, elapsed, err := eng.Reduce(data, 256, 4)
package treduce
