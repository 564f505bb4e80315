// Package router composes one onion routing node.
//
// A Router owns the logic loop, the crypto worker pool, the transit relay
// and any number of path sets. Frames arriving from the transport are
// parsed at the boundary and dispatched on the logic loop by message type:
// commits go to the relay, status chains and downstream data go first to
// the path sets that may own them and then to the relay, and upstream data
// always belongs to the relay.
//
// # Usage
//
//	r, err := router.CreateRouter(config.CurrentConfig(), router.Deps{
//	    Transport: endpoint,
//	    NodeDB:    db,
//	})
//	if err != nil {
//	    return err
//	}
//	set := r.NewPathSet("client", path.RoleTunnel)
//	r.Start()
//	defer r.Stop()
package router
