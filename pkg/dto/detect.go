package dto

type DetectRequest struct {
	FilePath string `json:"file_path" binding:"required"`
}

type DetectResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

type UploadResponse struct {
	Message  string `json:"message"`
	JobID    string `json:"job_id"`
	Filename string `json:"filename"`
}
