// Package registry resolves environment and database names to open stores.
//
// An environment is one storage engine instance (a bolt file, a pebble directory or
// an in-memory pebble). A database is a bucket inside an environment, served by a
// store.IStore. Both are configured in three layers, later wins:
//
//	defaults -> environment -> database
//
// The layers decide the engine options, the record compression and the function
// table (see ops.Resolve). A database with inherit-environment set to false skips the
// environment layer; an environment with inherit-defaults set to false skips the
// defaults.
//
// Lifecycle:
//
//   - Static environments and databases are created by Init.
//   - Unknown names are provisioned from the dynamic templates, if configured.
//   - Acquire opens the environment on first use and counts handles. When the last
//     handle is released the environment is closed again, unless keep-warm is set.
//     Memory environments stay open until the registry is closed.
//
// Usage Example:
//
//	reg, _ := registry.New(registry.Config{DataDir: "/var/lib/hkv", DynamicEnvironment: &registry.EnvironmentConfig{}, DynamicDatabase: &registry.DatabaseConfig{}})
//	d, err := reg.Acquire(ctx, "shop", "users")
//	if err != nil {
//		return err
//	}
//	defer d.Release()
//	ok, err := ops.Put(ctx, d.Store, "joe", map[string]any{"age": 42.0}, ops.Conditions{})
package registry
