package authapi

type signupSendOTPRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	OTP      string `json:"otp"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleRequest struct {
	Credential string `json:"credential"`
}

type sendResetOTPRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	OTP         string `json:"otp"`
	NewPassword string `json:"newPassword"`
}

// refreshBody carries the refresh token for cookie-less clients. It is
// accepted on any authenticated route as a fallback to the cookie.
type refreshBody struct {
	RefreshToken string `json:"refreshToken"`
}

type userResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	ProfilePicture string `json:"profilePicture"`
}

type userEnvelope struct {
	User userResponse `json:"user"`
}

type okResponse struct {
	Message string `json:"message"`
}
