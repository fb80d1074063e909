package limiter

import (
	"context"
	"fmt"
)

func ExampleMemoryLimiter() {
	l, err := NewMemoryLimiter(Config{
		MaxBucketSize:     1,
		RequestsPerSecond: 1,
	})
	if err != nil {
		panic(err)
	}

	first, _ := l.Acquire(context.Background(), false)
	second, _ := l.Acquire(context.Background(), false)

	fmt.Println(first)
	fmt.Println(second)
	// Output:
	// true
	// false
}
