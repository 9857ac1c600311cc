// Package gmail implements mailbox.Provider on top of the Gmail and People
// APIs.
//
// Every call waits on a per-connection quota limiter, is retried with
// exponential backoff on rate limiting and transient server errors, and is
// recorded as a mailbox operation metric and span. API errors are mapped onto
// the mailbox error taxonomy:
//
//	401      -> mailbox.ErrAuthExpired
//	404      -> mailbox.ErrNotFound
//	429, 403 rateLimitExceeded -> mailbox.ErrRateLimited
//
// Message bodies prefer the text/plain part; HTML-only messages are converted
// to markdown. Outgoing messages are composed as MIME with go-message and
// markdown bodies are rendered to HTML with goldmark.
//
// Example usage:
//
//	httpClient, err := vault.HTTPClient(ctx, connectionID)
//	if err != nil {
//	    return err
//	}
//	client, err := gmail.New(ctx, httpClient, gmail.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	page, err := client.List(ctx, "in:inbox newer_than:7d", "", 50)
package gmail
