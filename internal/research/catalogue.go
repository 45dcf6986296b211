package research

import "github.com/basegraph-labs/trdforge/internal/session"

// catalogue is the static fallback used when the Search Gateway is
// unavailable (§4.10 "Fallback behaviour"). It covers the gap categories
// most likely to recur across projects; categories with no entry here
// propagate the search error instead of silently degrading.
var catalogue = map[session.GapCategory][]session.ResearchOption{
	session.GapDatabase: {
		{Name: "PostgreSQL", Description: "Relational database with strong consistency guarantees.",
			Strengths: []string{"ACID transactions", "rich ecosystem"}, PopularityScore: 0.95,
			LearningCurve: "medium", DocumentationQuality: "excellent", IntegrationComplexity: "medium"},
		{Name: "MongoDB", Description: "Document database for flexible schemas.",
			Strengths: []string{"schema flexibility"}, PopularityScore: 0.8,
			LearningCurve: "low", DocumentationQuality: "high", IntegrationComplexity: "low"},
	},
	session.GapAuthentication: {
		{Name: "Auth0", Description: "Hosted identity platform.",
			Strengths: []string{"turnkey SSO/MFA"}, PopularityScore: 0.85,
			LearningCurve: "low", DocumentationQuality: "excellent", IntegrationComplexity: "low"},
	},
	session.GapHosting: {
		{Name: "AWS", Description: "General-purpose cloud infrastructure.",
			Strengths: []string{"broadest service catalogue"}, PopularityScore: 0.9,
			LearningCurve: "high", DocumentationQuality: "high", IntegrationComplexity: "high_complexity"},
	},
	session.GapMessaging: {
		{Name: "Redis Streams", Description: "Lightweight pub/sub and streaming built on Redis.",
			Strengths: []string{"low operational overhead"}, PopularityScore: 0.7,
			LearningCurve: "low", DocumentationQuality: "high", IntegrationComplexity: "low"},
	},
}
