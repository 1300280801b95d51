// Package reactor provides a single-goroutine reactor loop, the lifecycle
// shared by every resource bound to it, and a notifier through which other
// goroutines inject work into the loop.
//
// # Architecture
//
// A [Loop] owns one OS poller (epoll on Linux, kqueue on Darwin). Resources
// embed [Handle], which binds them to a loop, attaches their descriptor, and
// registers a callback bound to that instance. The poller indexes those
// callbacks by descriptor, so dispatch never recovers an owner from raw
// user data.
//
// A [Notifier] is a handle over an eventfd (Linux) or self-pipe (Darwin).
// [Notifier.Notify] appends a task under a [Mutex] and signals the
// descriptor; the loop drains the whole queue at once and runs each task.
//
// # Lifecycle
//
// Handles move Open → Closing → Closed. [Handle.Close] releases the
// descriptor immediately, and schedules the rest of the teardown for a later
// phase of the loop: in-flight requests fail with [ErrCanceled], then the
// close callback runs. Anything captured for those requests stays valid
// until then.
//
// # Thread Safety
//
// The goroutine that first calls [Loop.Run] becomes the loop goroutine, for
// the lifetime of the loop. Handle operations, [Loop.Stop] and close must
// happen on it (or, before the first Run, on any single goroutine).
// [Notifier.Notify] is safe from any goroutine, and is the way to request
// any of the above from elsewhere.
//
// # Usage
//
//	loop, err := reactor.New(reactor.WithLogger(reactor.NewJSONLogger(os.Stderr, logiface.LevelInformational)))
//	if err != nil {
//		log.Fatal(err)
//	}
//	n, err := reactor.NewNotifier(loop)
//	if err != nil {
//		log.Fatal(err)
//	}
//	go func() {
//		_ = n.Notify(func() {
//			fmt.Println("on the loop")
//			_ = n.Close(nil)
//		})
//	}()
//	if err := loop.Run(context.Background(), reactor.RunDefault); err != nil {
//		log.Fatal(err)
//	}
//	_ = loop.Close()
package reactor
