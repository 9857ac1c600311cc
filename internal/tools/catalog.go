package tools

// Catalog returns every tool, in the order they are presented to a model.
func Catalog() []Tool {
	return []Tool{
		searchEmails(),
		readEmail(),
		sendEmail(),
		replyToEmail(),
		createDraft(),
		listLabels(),
		createLabel(),
		labelEmails(),
		markRead(),
		archiveEmails(),
		trashEmails(),
		untrashEmails(),
		trashByQuery(),
		findUnsubscribeCandidates(),
		unsubscribeEmails(),
		searchContacts(),
		scheduleJob(),
		webResearch(),
	}
}
