// Package device holds the household device state: the store that persists
// it, the codec that interprets fan and AC attributes, and the Registry
// service that the HTTP layer and the controller feed call into.
//
// # Data model
//
// Every device is one record keyed by name, seeded at startup and never
// deleted:
//
//	name        lamp_one, fan, ac, ...
//	active      bool, never null
//	attributes  opaque JSON text, nil until written
//	version     +1 per committed write
//
// The store does not look inside attributes. The codec does, for the two
// composite devices:
//
//	fan  {"speed": "one" | "two" | "three"}
//	ac   {"temperature": <number>}
//
// # Stores
//
//   - SQLiteStore: the devices table, via mattn/go-sqlite3
//   - BoltStore: a "devices" bucket in a bbolt file
//
// Toggle is atomic in both: a single UPDATE ... RETURNING statement in SQLite,
// a single write transaction in bbolt. Update (used by the codec paths) is a
// read-modify-write inside one transaction.
//
// # Usage
//
//	store := device.NewSQLiteStore(db.DB)
//	reg := device.NewRegistry(store)
//	reg.SetLogger(log)
//	reg.AddObserver(device.NewSQLiteHistory(db.DB))
//
//	if err := reg.Initialize(ctx, device.DefaultNames()); err != nil {
//	    return err
//	}
//
//	on, err := reg.Toggle(ctx, device.LampOne)
//	fan, err := reg.UpdateFan(ctx, device.FanUpdate{Speed: &speed})
//
// # Errors
//
// Unknown names return ErrDeviceNotFound. Storage failures wrap
// ErrStorageUnavailable together with the driver error. Attributes that
// cannot be decoded never produce an error; the decoded state carries a
// DecodeWarning and reports the affected field as unknown.
package device
