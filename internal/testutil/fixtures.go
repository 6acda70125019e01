package testutil

import "github.com/mahmudsudo/encrypted-sql/internal/schema"

// ScenarioTable is the table t(id uint8, flag bool) used across tests,
// with rows (1,true), (2,false), (3,true).
func ScenarioTable() (schema.Table, [][]schema.Value) {
	tbl := schema.Table{
		Name: "t",
		Columns: []schema.Column{
			{Name: "id", Type: schema.Uint(8)},
			{Name: "flag", Type: schema.Bool},
		},
	}
	rows := [][]schema.Value{
		{schema.UintValue(1), schema.BoolValue(true)},
		{schema.UintValue(2), schema.BoolValue(false)},
		{schema.UintValue(3), schema.BoolValue(true)},
	}
	return tbl, rows
}
