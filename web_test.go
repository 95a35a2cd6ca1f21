package main

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestDrainErrorsUnblocksHandlers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 64)
	go drainErrors(ctx, &Config{}, errs)

	// Push well past the buffer; every send must go through.
	for i := 0; i < 200; i++ {
		select {
		case errs <- fmt.Errorf("write %d failed", i):
		case <-time.After(time.Second):
			t.Fatalf("send %d blocked with a drained channel", i)
		}
	}
}
