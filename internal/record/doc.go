// Package record defines the immutable Record value and the boundary that turns raw
// source data into records.
//
// A [RawData] value is whatever a record source returns for one ordinal position: the
// position itself and a JSON object payload. [FromRaw] validates the payload and builds a
// [Record]; it is the only place malformed remote data is detected.
//
//	rec, err := record.FromRaw(record.RawData{Position: 3, Payload: []byte(`{"name":"atlas","class":"scout"}`)})
//	if err != nil {
//		var cerr *record.ConstructionError
//		if errors.As(err, &cerr) {
//			fmt.Printf("position %d: %s\n", cerr.Position, cerr.Reason)
//		}
//	}
//
// Records are values. Callers that hand records to other code should use [Record.Clone]
// so the attribute map is not shared.
package record
