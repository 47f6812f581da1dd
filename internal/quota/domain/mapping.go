package domain

import usagedomain "github.com/smallbiznis/quotaflow/internal/usage/domain"

// webhook_delivered has no entry; it is recorded for cost only.
var eventQuotaTypes = map[usagedomain.EventType]QuotaType{
	usagedomain.EventAPICall:         QuotaAPICalls,
	usagedomain.EventStorageUsed:     QuotaStorageGB,
	usagedomain.EventBandwidthUsed:   QuotaBandwidthGB,
	usagedomain.EventComputeMinutes:  QuotaComputeMinutes,
	usagedomain.EventUserAdded:       QuotaTeamMembers,
	usagedomain.EventProjectCreated:  QuotaProjects,
	usagedomain.EventExportGenerated: QuotaExports,
	usagedomain.EventEmailSent:       QuotaEmails,
}

// QuotaTypeForEvent returns the quota an event type counts against.
func QuotaTypeForEvent(eventType usagedomain.EventType) (QuotaType, bool) {
	quotaType, ok := eventQuotaTypes[eventType]
	return quotaType, ok
}
