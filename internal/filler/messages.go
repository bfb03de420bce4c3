package filler

import "strings"

// Service-code description templates typed into the invoice description
// field. Placeholders: {curso}, {mes}, {ano}.
var serviceMessages = map[string]string{
	"22": "Mensalidade de Graduação, Curso: {curso} – Competência {mes}/{ano}.",
	"15": "Taxa de Trancamento de Matrícula, Curso: {curso} – Competência {mes}/{ano}.",
	"10": "Taxa de Prova de Segunda Chamada, Curso: {curso} – Competência {mes}/{ano}.",
	"28": "Taxa de Multa de Biblioteca, Curso: {curso} – Competência {mes}/{ano}.",
	"60": "Taxa de Diferença de Mensalidade, Curso: {curso} – Competência {mes}/{ano}.",
	"64": "Taxa de Ementas, Curso: {curso} – Competência {mes}/{ano}.",
	"1":  "Taxa de Histórico Escolar, Curso: {curso} – Competência {mes}/{ano}.",
	"2":  "Taxa de Cancelamento de Matrícula, Curso: {curso} – Competência {mes}/{ano}.",
	"67": "Taxa de A D Valore, Curso: {curso} - Competência {mes}/{ano}.",
	"77": "Taxa Administrativa Aceduca, Curso: {curso} - Competência {mes}/{ano}.",
	"82": "Taxa de Contrato de DP - EAD, Curso: {curso} - Competência {mes}/{ano}.",
	"59": "Taxa de Contrato de DP, Curso: {curso} – Competência {mes}/{ano}.",
	"47": "Taxa de Ficha Catalográfica, Curso: {curso} - Competência {mes}/{ano}.",
	"43": "Taxa de Colação de Grau Individual, Curso: {curso} - Competência {mes}/{ano}.",
	"52": "Mensalidade de Pós-Graduação: {curso} - Competência {mes}/{ano}.",
	"83": "Taxa de CREDMED-ENCARGOS, Curso: {curso} - Competência {mes}/{ano}.",
}

const defaultMessage = "Serviço prestado conforme contratado para o curso {curso} – Competência {mes}/{ano}."

// renderDescription builds the invoice description for a record from its
// service code, course and the issue date's month/year.
func renderDescription(serviceCode, course, month, year string) string {
	template, ok := serviceMessages[strings.TrimSpace(serviceCode)]
	if !ok {
		template = defaultMessage
	}
	msg := strings.Replace(template, "{curso}", course, 1)
	msg = strings.Replace(msg, "{mes}", month, 1)
	msg = strings.Replace(msg, "{ano}", year, 1)
	return msg
}
