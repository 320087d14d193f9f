// Package httpsource reads a record collection from a REST JSON service and
// serves any record source over the same shape.
//
// The service answers two requests:
//
//	GET /count          -> {"total": 9}
//	GET /records/{pos}  -> {"position": 4, "name": "atlas", ...}
//
// Both paths and the JSON path of the count are configurable. A 404 for a
// record maps to source.ErrPositionOutOfRange; any other status of 400 or
// more becomes a *source.HTTPError carrying the start of the body.
package httpsource
