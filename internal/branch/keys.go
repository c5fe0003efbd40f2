package branch

// Record store key scheme. These keys are the durable contract other
// tooling may read directly.

// sessionsIndexKey holds all session IDs, scored by creation time.
const sessionsIndexKey = "sessions"

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

func sessionMessagesKey(sessionID string) string {
	return "session:" + sessionID + ":messages"
}

func sessionHistoryKey(sessionID string) string {
	return "session:" + sessionID + ":branch_history"
}

func messageKey(messageID string) string {
	return "message:" + messageID
}

func messageVersionsKey(messageID string) string {
	return "message:" + messageID + ":versions"
}

func branchKey(branchID string) string {
	return "branch:" + branchID
}

func branchMessagesKey(branchID string) string {
	return "branch:" + branchID + ":messages"
}
