// Package adapter turns a set of per-tool functions into a tools.Plugin.
//
// Key components:
//   - Set: a plugin's tools, keyed by name, with their schemas
//   - Func: one tool's implementation over typed Args
//   - Args: typed accessors over the raw argument map
//
// Results returned by a Func are normalized into the uniform Response shape,
// and its errors become isError Responses rather than escaping.
package adapter
