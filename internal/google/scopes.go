package google

import gmail "google.golang.org/api/gmail/v1"

// DefaultOAuthScopes are the Gmail scopes the bridge needs:
//   - modify: read messages and remove the UNREAD label
//   - send: send in-thread replies
//   - labels: find or create the watched label
var DefaultOAuthScopes = []string{
	gmail.GmailModifyScope,
	gmail.GmailSendScope,
	gmail.GmailLabelsScope,
}
