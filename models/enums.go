package models

type ReviewReason string

const (
	ReviewReasonNoEmail               ReviewReason = "no_email"
	ReviewReasonInvalidEmail          ReviewReason = "invalid_email"
	ReviewReasonFuzzyMatchUncertainty ReviewReason = "fuzzy_match_uncertainty"
	ReviewReasonEntityCreationFailed  ReviewReason = "entity_creation_failed"
)

type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusResolved ReviewStatus = "resolved"
)

type ResolutionRunStatus string

const (
	ResolutionRunStatusRunning    ResolutionRunStatus = "running"
	ResolutionRunStatusCompleted  ResolutionRunStatus = "completed"
	ResolutionRunStatusRolledBack ResolutionRunStatus = "rolled_back"
)

type ResolutionEventAction string

const (
	ResolutionEventActionResolved       ResolutionEventAction = "deal.resolved"
	ResolutionEventActionReviewResolved ResolutionEventAction = "review_case.resolved"
	ResolutionEventActionRolledBack     ResolutionEventAction = "deal.rolled_back"
)

type OutboxPublishStatus string

const (
	OutboxPublishStatusPending    OutboxPublishStatus = "PENDING"
	OutboxPublishStatusProcessing OutboxPublishStatus = "PROCESSING"
	OutboxPublishStatusPublished  OutboxPublishStatus = "PUBLISHED"
	OutboxPublishStatusFailed     OutboxPublishStatus = "FAILED"
	OutboxPublishStatusDead       OutboxPublishStatus = "DEAD"
)

type EntityAuditIssueType string

const (
	AuditIssueMissingCompany         EntityAuditIssueType = "missing_company"
	AuditIssueMissingContact         EntityAuditIssueType = "missing_contact"
	AuditIssueContactCompanyMismatch EntityAuditIssueType = "contact_company_mismatch"
)
