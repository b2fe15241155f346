// Package bridge exposes a workspace over a newline-delimited JSON
// request/response protocol.
//
// A [Server] owns one workspace and serves any number of connections
// (stdio or a unix socket). The first request on every connection must be
// "initialize"; afterwards requests are handled in order and the server
// pushes session notifications from the workspace event bus.
//
// A [Client] correlates responses with requests by id. A [Pool] keeps one
// client per workspace root and starts servers on demand through a
// [Launcher]:
//
//	pool := bridge.NewPool(bridge.NewLauncher(cfg))
//	client, err := pool.Get(ctx, root)
//	var out bridge.SessionListResult
//	err = client.Call(ctx, bridge.MethodSessionList, bridge.SessionListParams{}, &out)
package bridge
