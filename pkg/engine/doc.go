// Package engine defines the contract between the supervisor and the
// protocol engines that back sessions: the closed set of engine variants,
// the constructor selected for each, the parameters a session is built from,
// and the Session handle the supervisor drives.
package engine
