package vault

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	people "google.golang.org/api/people/v1"
)

// GoogleScopes are the scopes a mailbox connection needs: mailbox modify and
// send, plus read-only contacts for recipient lookup.
var GoogleScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	gmail.GmailModifyScope,
	gmail.GmailSendScope,
	gmail.GmailLabelsScope,
	people.ContactsReadonlyScope,
	people.ContactsOtherReadonlyScope,
}

// oob is the out-of-band redirect used by the connect command.
const oob = "urn:ietf:wg:oauth:2.0:oob"

// GoogleOAuthConfig returns the client config for Google. An empty
// redirectURL uses the out-of-band flow.
func GoogleOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	if redirectURL == "" {
		redirectURL = oob
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       GoogleScopes,
	}
}
