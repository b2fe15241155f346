// Package event provides a synchronous publish/subscribe bus that decouples
// the components that change session state (workspace service, status
// tracker, workflow engine) from the components that report it (bridge
// connections, CLI output).
//
// Publishers call [Bus.Publish] with one of the typed events in this package.
// The bridge subscribes with [Bus.SubscribeAll] and turns session.* events
// into protocol notifications.
package event
