// Package harness runs payment scenarios described in YAML.
//
// A scenario names a set of devices, a flow of steps (wallet loads,
// payments, syncs, reversals, clock jumps) and assertions on the final
// state. Each run builds real wallets (sqlite store, executor, sync engine)
// against an in-process ledger service, all sharing one manual clock, so
// scenarios are deterministic and exercise the same code paths as the CLI.
//
// Example:
//
//	name: rejected_then_reversed
//	description: the ledger refuses a payment the device allowed
//	devices: [alice, shop]
//	server_limits: {per_tx: 200, daily: 4000, wallet_max: 2000}
//	flow:
//	  - {action: load, device: alice, amount: 1000}
//	  - {action: pay, from: alice, to: shop, amount: 300, payment: p1}
//	  - {action: sync, device: alice, expect: {rejected: 1}}
//	  - {action: reverse, device: alice, payment: p1}
//	assertions:
//	  - {type: balance, device: alice, value: 1000}
package harness
