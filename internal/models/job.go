package models

// TaskProcessFile is the task name carried on the queue subject.
const TaskProcessFile = "tasks.process_file"

// ProcessFileJob is the queue payload for one video file.
type ProcessFileJob struct {
	FilePath string `json:"file_path"`
}
