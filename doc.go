// Package volt keeps build outputs in sync with a remote cache server.
//
// A project is described by a volt.toml next to the sources. Its volt_id
// names the cache slot on the server, its cache directories are archived on
// push and restored on pull, and its hash directories (the cache directories
// when none are listed) decide whether a pull has anything to transfer.
//
// Basic usage:
//
//	project, err := config.LoadProject("volt.toml")
//	profiles, err := config.LoadProfiles(serversDir)
//
//	c, err := volt.New(project, profiles, volt.WithLogger(log))
//
//	// Restore the cache unless it already matches
//	res, err := c.Pull(ctx)
//	fmt.Println(res) // "up to date", "restored in 1.2s" or "cache miss"
//
//	// Upload the current cache directories
//	pushed, err := c.Push(ctx)
//	fmt.Println(pushed) // "cached 12.4mb in 800ms"
//
//	// Pull, run the wrapped build, push on success
//	report, err := c.Run(ctx)
package volt
