// Package sessions implements the session lifecycle for Ephemeral Drop:
// a directory-per-session store on the local filesystem, streaming
// ingestion with quotas, ownership checks, zip archive assembly and the
// background reaper that removes expired sessions.
package sessions
