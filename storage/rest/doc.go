// Package rest implements storage.Store over the HTTP key/value protocol:
//
//	GET  {base}/get/{key}  -> {"result": <stored value or null>}
//	POST {base}/set/{key}  <- {"value": "...", "expiration_ttl": seconds}
//	POST {base}/del/{key}
//
// Every request carries an Authorization: Bearer header. Stored values are
// frequently JSON documents that the remote side returns as a JSON string, so
// Get decodes the result field a second time when it is a string.
package rest
