// Package hub is the client-side session manager for one ADS controller.
//
// A Hub owns a single session and wires the pieces around it:
//
//	Hub
//	 ├── connection.Manager    open, health probe, reconnect with backoff
//	 ├── serializer.Serializer one call on the session at a time
//	 ├── subscription.Registry device notifications, last values, dispatch
//	 └── polling.Scheduler     periodic reads for everything not notified
//
// Every read, write, probe, and notification registration goes through
// the serializer with the configured operation timeout. Failed operations
// are reported to the connection manager, which forces a reconnect once
// too many of them pile up. After every successful connect the registry
// re-registers all device notifications; subscriptions whose notification
// cannot be registered fall back to polling.
//
// # Basic Usage
//
//	cfg := hub.DefaultConfig()
//	cfg.Transport = myTransport
//	cfg.Endpoint = transport.Endpoint{Host: "10.0.0.5", Port: 851, NetID: "10.0.0.5.1.1"}
//
//	h, err := hub.New(cfg)
//	if err != nil {
//	    return err
//	}
//	defer h.Shutdown(context.Background())
//
//	if err := h.Connect(ctx); err != nil {
//	    // Keeps retrying in the background.
//	    log.Printf("controller unreachable: %v", err)
//	}
//
//	handle, _ := h.Subscribe(ctx, subscription.Spec{
//	    Address:          "MAIN.temperature",
//	    Type:             codec.TypeReal,
//	    UseNotifications: true,
//	    Callback:         func(u subscription.Update) { fmt.Println(u.Value) },
//	})
package hub
