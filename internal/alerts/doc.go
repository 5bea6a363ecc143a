// Package alerts implements the rule evaluation engine and webhook delivery
// for assessment alerting. Rules are evaluated against completed reports;
// webhooks are delivered to Teams, Slack, or generic HTTP targets.
package alerts
