package models

import "time"

// GroupError - ошибка по конкретной группе, порядок в списках сохраняется.
type GroupError struct {
	Title string `json:"title"`
	Error string `json:"error"`
}

func (e GroupError) String() string {
	return e.Title + ": " + e.Error
}

// BroadcastResult - итог рассылки по одному аккаунту.
// Если заполнен Error, аккаунт не обработан и счётчики не имеют смысла.
type BroadcastResult struct {
	Success int          `json:"success"`
	Failed  int          `json:"failed"`
	Errors  []GroupError `json:"errors"`
	Error   string       `json:"error,omitempty"`
}

// AddFailure увеличивает счётчик ошибок и запоминает причину.
func (r *BroadcastResult) AddFailure(title string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, GroupError{Title: title, Error: err.Error()})
}

// BroadcastLogEntry - запись журнала рассылок: время запуска и результаты по номерам.
type BroadcastLogEntry struct {
	Time    time.Time                  `json:"time"`
	Text    string                     `json:"text"`
	Format  string                     `json:"format"`
	Results map[string]BroadcastResult `json:"results"`
}

// Totals суммирует успешные и неудачные отправки по всем аккаунтам.
func (e BroadcastLogEntry) Totals() (success, failed int) {
	for _, r := range e.Results {
		if r.Error != "" {
			continue
		}
		success += r.Success
		failed += r.Failed
	}
	return success, failed
}
