package resp

type ErrorResponse struct {
	Error string `json:"error"`
}
