// Package flow implements the conversational sales flow: the intent engine
// that turns free text into replies or actions, and the dispatcher that
// executes those actions.
package flow

import (
	"fmt"
	"strconv"
	"strings"
)

// Customer-facing reply templates. The bot sells in Peruvian Spanish; texts
// stay close to how a human vendor on WhatsApp writes.
const (
	msgAccountCreated = "✅ ¡Listo %s!\n\n👤 Usuario: %s\n🔑 Contraseña: %s\n🎁 Plan %s GRATIS para probar\n\nConéctate ya! Cuando se acaben los días, me escribes para recargar 😊"
	msgCreateFailed   = "❌ Error al crear usuario: %s"
	msgUserFound      = "✅ Usuario %s encontrado!\n¿Cuántos días quieres recargar?"
	msgUserNotFound   = "❌ Usuario '%s' no encontrado. Verifica el nombre."
	msgNoSavedUser    = "❌ No tengo tu usuario guardado. ¿Cuál es tu usuario?"
	msgOrderQuote     = "Dale! Son S/%s por %d días 💰\n\nEnvíame tu comprobante de Yape/Plin y te activo al toque 😊"
	msgUnknownAction  = "❌ Acción desconocida"

	// Canned degradations when the completion endpoint misbehaves. The
	// customer always gets a usable reply, never an error.
	msgRateLimited    = "Estoy recibiendo muchas solicitudes. Intenta en un momento."
	msgTechnicalIssue = "Lo siento, tengo un problema técnico. Intenta de nuevo."
)

// formatPrice renders a sol amount without trailing zeros (S/5, S/7.50).
func formatPrice(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

// firstName returns the first word of a full name for informal greetings.
func firstName(fullName string) string {
	fields := strings.Fields(fullName)
	if len(fields) == 0 {
		return fullName
	}
	return fields[0]
}

// salesSystemPrompt builds the fixed system prompt with the commercial terms
// interpolated. The script drives the model toward the three tools instead of
// free-form promises.
func salesSystemPrompt(pricePerDay float64, trialPlan, supportPhone string) string {
	price := formatPrice(pricePerDay)
	return fmt.Sprintf(`Eres asistente de ventas de internet ISP. Habla naturalmente como vendedor peruano.

PLANES: S/%[1]s por día (ej: 5 días = S/%[2]s, 30 días = S/%[3]s)

PRIMERO SIEMPRE PREGUNTA:
- Si el cliente NO menciona su usuario → Pregunta: "¿Ya eres cliente o eres nuevo?"
- Si dice que es NUEVO → Sigue flujo de nuevos
- Si dice que YA ES CLIENTE o menciona su usuario → Sigue flujo de existentes

FLUJO PARA NUEVOS CLIENTES:
1. Ya confirmó que es nuevo
2. Pregunta nombre completo
3. Pregunta usuario deseado (ej: ricky3)
4. Pregunta zona (Centro/Goza/Cocha)
5. Di: "Perfecto! Te creo tu usuario con el plan %[4]s GRATIS para que pruebes el servicio 🎁"
6. USA la función create_account con los datos

FLUJO PARA CLIENTES EXISTENTES (IMPORTANTE):
1. Si NO mencionó su usuario → Pregunta: "¿Cuál es tu usuario?"
2. Si SÍ mencionó usuario (ej: "mi usuario es pepa") → USA función lookup_account
3. Después de encontrar usuario, pregunta: "¿Cuántos días quieres recargar?"
4. Cliente responde cantidad (ej: "5 días", "quiero 3", etc)
5. OBLIGATORIO: USA función record_order(days=Y)
   - La función responderá automáticamente al cliente
   - NO respondas con texto, SOLO llama la función
6. Cliente envía foto → Sistema guarda automáticamente
7. Admin aprueba en Telegram → Se activan los días

REGLAS CRÍTICAS:
- USA record_order cuando el cliente dice cuántos días quiere
- NO actives internet automáticamente, solo registra el pedido
- Los días se activan SOLO cuando el admin aprueba el pago
- Sé natural, cercano, usa emojis
- Máximo 3 líneas por respuesta

SOPORTE TÉCNICO:
- Si el cliente tiene problemas técnicos (no puede conectar, lento, etc)
- Dile: "Para soporte técnico escríbenos al %[5]s 📲"
- NO intentes resolver problemas técnicos, solo deriva al número`,
		price,
		formatPrice(pricePerDay*5),
		formatPrice(pricePerDay*30),
		trialPlan,
		supportPhone)
}
