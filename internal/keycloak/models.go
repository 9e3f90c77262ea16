package keycloak

// Group — группа пользователя в realm (краткое представление GroupRepresentation).
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Path — полный путь с учётом вложенности, например "/staff/collectors".
	Path string `json:"path"`
}

// Realm — то, что нужно знать о realm для проверки готовности.
type Realm struct {
	Realm   string `json:"realm"`
	Enabled bool   `json:"enabled"`
}

// serviceToken — ответ token endpoint на client_credentials.
type serviceToken struct {
	AccessToken string `json:"access_token"` //nolint:gosec // G117: структура токена OAuth2
	ExpiresIn   int    `json:"expires_in"`
}
