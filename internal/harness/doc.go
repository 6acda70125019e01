// Package harness provides conformance testing for the encrypted query
// pipeline.
//
// The harness loads plaintext tables, encrypts them into a fresh
// in-memory store, runs every query through encode, evaluate and decode,
// and checks the decoded answers against expectations and against a
// plaintext reference (queryir.Eval over the same rows).
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	data: path/to/csv/dir          # optional; may hold catalog.cue
//	tables:                        # optional inline tables
//	  - name: t
//	    columns:
//	      - {name: id, type: uint8}
//	      - {name: flag, type: bool}
//	    rows:
//	      - [1, true]
//	queries:
//	  - name: flag_true
//	    sql: SELECT id FROM t WHERE flag = true
//	    expect:
//	      rows: [[1]]
//	  - name: total
//	    sql: SELECT id FROM t
//	    kind: scalar
//	    expect:
//	      count: 1
//	      sums: {id: "1"}
//	  - name: missing
//	    sql: SELECT id FROM nope
//	    expect:
//	      error: TABLE_NOT_FOUND
//	assertions:
//	  - type: matches_reference
//
// # Assertion Types
//
// Assertions apply to every query that succeeds:
//
//   - matches_reference: the decoded answer equals the plaintext filter
//   - oblivious: every row ran the identical operation sequence
//   - idempotent: evaluating the same program twice decodes identically
//   - reencode: encoding the SQL again with fresh ciphertexts decodes identically
//
// # Deterministic Testing
//
// Query IDs are fixed (scenario.query_id or testutil.DefaultQueryID) and
// outcomes are numbered by a testutil.DeterministicClock, so Snapshot
// output is byte-identical across runs even though every run encrypts
// with fresh randomness. Golden files live in testdata/golden.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/basic_filters.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario, harness.Options{Client: ck, Server: sk})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
