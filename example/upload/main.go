package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

type recipient struct {
	Name    string
	Email   string
	Company string
}

func main() {
	baseURL := getenvDefault("BULKMAILER_URL", "http://localhost:3030")
	sender := getenvDefault("BULKMAILER_SENDER", "me@bulkmailer.dev")
	password := getenvDefault("BULKMAILER_PASSWORD", "sandbox")

	workbook := buildWorkbook([]recipient{
		{Name: "Alice", Email: "alice@bulkmailer.dev", Company: "Acme"},
		{Name: "Bob", Email: "bob@bulkmailer.dev", Company: "Globex"},
		{Name: "Cara", Email: "cara@bulkmailer.dev"},
	})

	body, contentType := buildForm(workbook, map[string]string{
		"sender":   sender,
		"password": password,
		"subject":  "Quarterly update",
		"message":  "Greetings from {company}. Thanks for a great quarter, {name}!",
	})

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(baseURL+"/api/send", contentType, body)
	if err != nil {
		panic(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		panic(fmt.Sprintf("send failed: %s", strings.TrimSpace(string(b))))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") || strings.HasPrefix(line, "data: ") {
			fmt.Println(line)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "stream error:", err)
	}
}

func buildWorkbook(rows []recipient) []byte {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &[]any{"Name", "Email", "Company"}); err != nil {
		panic(err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			panic(err)
		}
		if err := f.SetSheetRow(sheet, cell, &[]any{row.Name, row.Email, row.Company}); err != nil {
			panic(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func buildForm(workbook []byte, fields map[string]string) (io.Reader, string) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "recipients.xlsx")
	if err != nil {
		panic(err)
	}
	if _, err := part.Write(workbook); err != nil {
		panic(err)
	}
	for key, value := range fields {
		if err := w.WriteField(key, value); err != nil {
			panic(err)
		}
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return &buf, w.FormDataContentType()
}

func getenvDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
