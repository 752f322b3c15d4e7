package memory

import "comprobantes.org/internal/audit"

func auditEntry(subject, company int64) audit.Entry {
	return audit.Entry{Action: audit.ActionAssign, SubjectUserID: subject, CompanyID: company, ActorUserID: 1}
}
