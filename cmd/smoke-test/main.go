// Smoke test against a live appliance or a running astrobox-sim.
//
// Prerequisites:
//   - An appliance reachable at ASTROBOX_URL (e.g. go run ./cmd/astrobox-sim)
//   - ASTROBOX_API_KEY set to a key the appliance accepts
//
// Usage:
//
//	ASTROBOX_URL=http://localhost:5000 ASTROBOX_API_KEY=... go run ./cmd/smoke-test
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/op/go-logging"

	astrobox "github.com/astroprint/astrobox-go"
)

var log = logging.MustGetLogger("smoke-test")

func main() {
	passed := 0
	failed := 0

	fmt.Println("=== AstroBox Go Client Smoke Test ===")
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bootKey := os.Getenv("ASTROBOX_API_KEY")

	// --- Test 1: Connect and handshake ---
	fmt.Println("[Test 1] Connect and complete the handshake...")

	client, err := astrobox.NewClient(astrobox.Config{}, astrobox.LogErrors(log))
	if err != nil {
		log.Fatalf("  FAIL: NewClient(): %v", err)
	}
	if err := client.Connect(ctx); err != nil {
		log.Fatalf("  FAIL: Connect(): %v", err)
	}
	defer client.Close()
	if err := client.WaitReachable(ctx); err != nil {
		log.Fatalf("  FAIL: WaitReachable(): %v", err)
	}
	fmt.Printf("  PASS: session %s\n", client.SessionID())
	passed++

	// --- Test 2: Handshake rotated the API key ---
	fmt.Println("[Test 2] Handshake rotated the REST API key...")

	if key := client.API().APIKey(); key != "" && key != bootKey {
		fmt.Println("  PASS")
		passed++
	} else {
		fmt.Printf("  FAIL: API key %q was not replaced\n", key)
		failed++
	}

	// --- Test 3: A status snapshot arrives ---
	fmt.Println("[Test 3] Wait for a status snapshot...")

	snapshot := make(chan struct{}, 1)
	unsubscribe := client.Store().Subscribe(astrobox.FieldTemps, func(string, any, any) {
		select {
		case snapshot <- struct{}{}:
		default:
		}
	})
	select {
	case <-snapshot:
		s := client.Store().Snapshot()
		fmt.Printf("  PASS: %s, bed %.1f°C\n", s.DisplayState(), s.Temps.Bed.Actual)
		passed++
	case <-time.After(10 * time.Second):
		fmt.Println("  FAIL: no temperature update within 10s")
		failed++
	}
	unsubscribe()

	// --- Test 4: Rotated key is accepted by the REST API ---
	fmt.Println("[Test 4] Fetch a channel token with the rotated key...")

	if _, err := client.API().WSToken(ctx); err != nil {
		fmt.Printf("  FAIL: WSToken(): %v\n", err)
		failed++
	} else {
		fmt.Println("  PASS")
		passed++
	}

	// --- Test 5: Manual reconnect opens a new session ---
	fmt.Println("[Test 5] Reconnect replaces the session...")

	first := client.SessionID()
	if err := client.Reconnect(ctx); err != nil {
		fmt.Printf("  FAIL: Reconnect(): %v\n", err)
		failed++
	} else if err := client.WaitReachable(ctx); err != nil {
		fmt.Printf("  FAIL: WaitReachable(): %v\n", err)
		failed++
	} else if second := client.SessionID(); second == "" || second == first {
		fmt.Printf("  FAIL: session %q after reconnect (was %q)\n", second, first)
		failed++
	} else {
		fmt.Printf("  PASS: session %s -> %s\n", first, second)
		passed++
	}

	// --- Summary ---
	fmt.Println()
	fmt.Println("=== Results ===")
	fmt.Printf("  Passed: %d\n", passed)
	fmt.Printf("  Failed: %d\n", failed)

	if failed > 0 {
		os.Exit(1)
	}
}
