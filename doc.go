// Package streamsupervisor keeps the display slots of a video wall showing a
// working live feed.
//
// Each slot is driven by a Supervisor bound to one logical Camera. The camera
// resolves to an ordered list of candidate StreamDescriptors (main stream,
// sub stream, snapshot URL, ...). The Supervisor starts the first usable
// candidate, watches frame flow on a 1 Hz health tick and, depending on the
// resolved Policy, fails over to the next candidate when a connection never
// produces a frame, or reconnects the same candidate when a live feed goes
// silent.
//
// # Quick Start
//
//	engine := streamsupervisor.NewEngine()
//	engine.Start(ctx)
//	defer engine.Stop()
//
//	policies, _ := streamsupervisor.NewPolicyResolver(streamsupervisor.DefaultPolicy(), true)
//	sup, err := streamsupervisor.NewSupervisor(streamsupervisor.SupervisorConfig{
//	    Slot:      "slot-1",
//	    Scheduler: engine,
//	    Factory:   streamsupervisor.NewFactory(streamsupervisor.FactoryOptions{}),
//	    Resolver:  catalog,
//	    Policies:  policies,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sup.Bind(streamsupervisor.Camera{ID: "lobby"})
//
//	// Render whatever is current
//	if frame, ok := sup.Surface().Latest(); ok {
//	    draw(frame.Image())
//	}
//
// # State Machine
//
//	Idle ──bind──▶ Scanning ──frames──▶ Viewing
//	                 │  ▲                  │
//	     connect     │  │ reconnect ok     │ loss timeout
//	     timeout     ▼  │                  ▼
//	   (next cand.) Failed ◀──────── Reconnecting
//
//   - Scanning: a manager is starting; idle ticks count toward the connect timeout
//   - Viewing: frames are flowing; idle ticks count toward the loss timeout
//   - Reconnecting: the same candidate is restarted every reconnect interval
//   - Failed: no candidate could be started; the health tick keeps running
//
// Failover wraps around the candidate list but stops where the current scan
// began (index 0 after a bind, the chosen index after Next, Previous or
// RestartCurrent): reaching it again sends the slot to Failed. Manual Next
// and Previous always wrap.
//
// # Threading
//
// All state mutations run as tasks on a single Scheduler worker. Public
// commands only submit tasks and read accessors only load the last
// published Snapshot, so they are safe from any goroutine. Backends signal
// first-frame and fatal-error events through OnWake callbacks, which are
// re-posted to the worker and only schedule a debounced redraw.
//
// # Backends
//
//   - pipeline: GStreamer (RTSP, file, or a custom gst-launch description)
//     decoding into an appsink
//   - polled: periodic HTTP GET of a still image (JPEG, PNG, GIF, BMP, WebP)
//     with exponential backoff
package streamsupervisor
