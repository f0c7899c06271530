package redemption

const (
	TypeExpirePending = "redemption:expire_pending"
)
