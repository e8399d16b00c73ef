package engine

import (
	"fmt"
	"strings"

	"github.com/ashureev/laporan-bot/internal/domain"
)

const (
	msgSelectType         = "🔷 Pilih Jenis Laporan:"
	msgInvalidType        = "❌ Pilihan tidak valid. Silakan pilih jenis laporan yang tersedia."
	msgEnterTicket        = "🎫 Masukkan ID Ticket:"
	msgEmptyTicket        = "❌ ID Ticket tidak boleh kosong. Silakan masukkan ID Ticket:"
	msgFolderFailed       = "❌ Gagal membuat folder. Silakan coba lagi."
	msgCancelled          = "❌ Laporan dibatalkan."
	msgNothingToCancel    = "Tidak ada laporan yang sedang dibuat. Ketik /start untuk memulai."
	msgSessionNotFound    = "❌ Session tidak ditemukan. Silakan /start ulang."
	msgError              = "❌ Terjadi kesalahan. Silakan /start ulang."
	msgSubmitted          = "✅ Laporan berhasil dikirim ke spreadsheet!"
	msgSubmitFailed       = "❌ Gagal mengirim laporan. Silakan coba lagi."
	msgChooseAction       = "Silakan pilih salah satu tindakan di bawah."
	msgChooseMode         = "Silakan pilih metode upload terlebih dahulu."
	msgSendPhotoOrDone    = "Silakan kirim foto atau pilih 'Selesai Upload' jika sudah selesai."
	msgDescribePhoto      = "📝 Masukkan deskripsi untuk foto ini (akan digunakan sebagai nama file):\n\nContoh: 'foto_sebelum_perbaikan', 'hasil_instalasi', dll"
	msgDescribeFirst      = "📝 Masukkan deskripsi untuk foto sebelumnya terlebih dahulu, atau tekan '❌ Batalkan'."
	msgEmptyDescription   = "❌ Deskripsi tidak boleh kosong. Silakan masukkan deskripsi foto:"
	msgUploadFailed       = "❌ Gagal mengupload foto. Silakan coba lagi."
	msgUnknownCommand     = "Perintah tidak dikenal. Ketik /start untuk memulai laporan baru."
	msgExpired            = "⌛ Laporan dibatalkan karena tidak ada aktivitas. Ketik /start untuk memulai lagi."
	msgSendTemplateFilled = "Silakan kirim format laporan yang sudah diisi."

	msgUploadIntro = "📷 Upload Foto Eviden\n\n" +
		"⚠️ PENTING - Cara Upload Foto:\n" +
		"• Satu foto: Kirim 1 foto → input deskripsi custom\n" +
		"• Beberapa foto sekaligus: Nama file otomatis (foto_1, foto_2, dst)\n\n" +
		"📋 Pilih metode upload:"
	msgSingleMode = "🔸 Mode Upload Satu-Satu\n\n" +
		"Kirimkan foto satu per satu. Setiap foto akan diminta deskripsi custom.\n\n" +
		"Kirimkan foto:"
	msgMultipleMode = "📷 Mode Upload Banyak\n\n" +
		"Kirimkan beberapa foto sekaligus. Nama file akan otomatis: foto_1, foto_2, dst.\n\n" +
		"Kirimkan foto-foto Anda:"
)

// ExpiredMessage is sent to users whose session was removed for inactivity.
const ExpiredMessage = msgExpired

var (
	typeKeyboard    = [][]string{{string(domain.ReportNonB2B), string(domain.ReportBGES)}, {string(domain.ReportSquad)}}
	cancelKeyboard  = [][]string{{TokenCancel}}
	restartKeyboard = [][]string{{CommandStart}}
	confirmKeyboard = [][]string{{TokenSubmit, TokenEdit}, {TokenUploadPhotos, TokenCancel}}
	modeKeyboard    = [][]string{{TokenSingleMode}, {TokenMultipleMode}, {TokenDoneUpload, TokenCancel}}
	uploadKeyboard  = [][]string{{TokenDoneUpload, TokenCancel}}
)

// RestartKeyboard offers a fresh /start.
func RestartKeyboard() [][]string { return restartKeyboard }

const divider = "-------------------------------------------------------------"

func templateMessage(s *domain.Session, folderLink string) string {
	var b strings.Builder
	b.WriteString("✅ Format Berhasil Dibuat\n\n")
	writeHeader(&b, s, folderLink)
	b.WriteString("Salin Format Laporan dan isi dibawah ini :\n\n")
	writeFieldLines(&b, nil)
	return b.String()
}

func editMessage(s *domain.Session, folderLink string) string {
	var b strings.Builder
	b.WriteString("📝 Edit Data Laporan\n\n")
	writeHeader(&b, s, folderLink)
	b.WriteString("Salin Format Laporan dan edit dibawah ini :\n\n")
	writeFieldLines(&b, s.Fields)
	return b.String()
}

func writeHeader(b *strings.Builder, s *domain.Session, folderLink string) {
	fmt.Fprintf(b, "Report Type : %s\n", s.ReportType)
	fmt.Fprintf(b, "ID Ticket : %s\n", s.TicketID)
	fmt.Fprintf(b, "Folder Drive : %s\n", folderLink)
	b.WriteString(divider + "\n")
}

func writeFieldLines(b *strings.Builder, f domain.Fields) {
	lines := make([]string, len(domain.RequiredFields))
	for i, label := range domain.RequiredFields {
		lines[i] = fmt.Sprintf("%s : %s", label, f[label])
	}
	b.WriteString(strings.Join(lines, "\n"))
}

func missingMessage(missing []string) string {
	return fmt.Sprintf("❌ Data tidak lengkap. Field berikut harus diisi: %s\n\n"+
		"Silakan kirim ulang format yang sudah diisi dengan lengkap.", strings.Join(missing, ", "))
}

func confirmationMessage(s *domain.Session) string {
	var b strings.Builder
	b.WriteString("✅ Konfirmasi Data Laporan\n\n")
	fmt.Fprintf(&b, "Report Type: %s\n", s.ReportType)
	fmt.Fprintf(&b, "ID Ticket: %s\n", s.TicketID)
	for _, label := range domain.RequiredFields {
		fmt.Fprintf(&b, "%s: %s\n", label, s.Fields[label])
	}
	b.WriteString(photoSummary(s.Photos))
	b.WriteString("\nPilih tindakan:")
	return b.String()
}

func photoSummary(photos []domain.Photo) string {
	if len(photos) == 0 {
		return "\n📷 Foto Eviden: Belum ada foto terupload\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n📷 Foto Terupload: %d foto\n", len(photos))
	for i, p := range photos {
		fmt.Fprintf(&b, "   %d. %s\n", i+1, p.Name)
	}
	return b.String()
}

func uploadedMessage(name string, total int) string {
	return fmt.Sprintf("✅ Foto '%s' berhasil diupload!\n\n📷 Total foto terupload: %d\n\n"+
		"Kirim foto lain atau ketik 'Selesai Upload'.", name, total)
}

func submittedMessage(photoCount int) string {
	if photoCount == 0 {
		return msgSubmitted
	}
	return fmt.Sprintf("%s\n📷 %d foto eviden tersimpan di folder Drive.", msgSubmitted, photoCount)
}
