package auth

// Capability names an operation gated by role.
type Capability string

const (
	CapSubmissionCreate  Capability = "submission.create"
	CapSubmissionReadOwn Capability = "submission.read_own"
	CapImageManageOwn    Capability = "image.manage_own"
	CapSubmissionReadAll Capability = "submission.read_all"
	CapSubmissionReview  Capability = "submission.review"
)

var roleCapabilities = map[Role][]Capability{
	RoleContributor: {CapSubmissionCreate, CapSubmissionReadOwn, CapImageManageOwn},
	RoleAdmin: {
		CapSubmissionCreate, CapSubmissionReadOwn, CapImageManageOwn,
		CapSubmissionReadAll, CapSubmissionReview,
	},
}

// Capabilities lists what role may do.
func Capabilities(role Role) []Capability {
	return append([]Capability(nil), roleCapabilities[role]...)
}
