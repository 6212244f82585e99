// Package astrobox provides a Go client for the live-state channel of an
// AstroBox 3D-printer appliance.
//
// The client holds the appliance's SockJS push channel open, reconnects with
// a fixed backoff table when it drops, and mirrors pushed status into three
// consumer-facing pieces:
//
//   - Store: the current printer status as named, observable fields
//   - EventBus: typed events (drive mounted, update available, ...)
//   - APIClient: REST commands, authenticated with the key each handshake rotates
//
// Basic usage:
//
//	client, err := astrobox.NewClient(astrobox.Config{
//	    BaseURL: "http://astrobox.local",
//	}, astrobox.LogErrors(logging.MustGetLogger("app")))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client.Store().Subscribe(astrobox.FieldPrinting, func(_ string, _, v any) {
//	    fmt.Println("printing:", v)
//	})
//	astrobox.On(client.Events(), func(e astrobox.ExternalDriveMounted) {
//	    fmt.Println("drive mounted at", e.MountPath)
//	})
//
//	if err := client.Connect(ctx); err != nil {
//	    log.Print(err) // retries continue in the background
//	}
//	defer client.Close()
package astrobox
