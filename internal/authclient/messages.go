package authclient

// Display messages used when the service gives none.
const (
	MsgServerUnreachable = "Erreur de connexion au serveur"
	MsgLoginFailed       = "Erreur lors de la connexion"
	MsgInvalidOTP        = "Code OTP invalide"
	MsgResendFailed      = "Erreur lors de l'envoi du code"
	MsgOTPSent           = "Code OTP envoyé par SMS"
)
